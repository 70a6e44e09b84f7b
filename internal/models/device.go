package models

// Device is a snapshot of one ADB-visible emulator/device, as exposed by
// DeviceRegistry. AssignedTask is a pure label — it does not itself start
// any work.
type Device struct {
	Serial         string `json:"serial"`
	Name           string `json:"name"`
	Status         string `json:"status"` // online, offline
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	AndroidVersion string `json:"android_version,omitempty"`
	Battery        int    `json:"battery,omitempty"`
	AssignedTask   string `json:"assigned_task"` // none | daily_login | re_id | ...
	IsRunning      bool   `json:"is_running"`
	CurrentAccount string `json:"current_account,omitempty"`
	SuccessCount   int    `json:"success_count"`
	ErrorCount     int    `json:"error_count"`
	LastSeen       int64  `json:"last_seen"`
}

const (
	TaskNone       = "none"
	TaskDailyLogin = "daily_login"
	TaskReID       = "re_id"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
