package spawn

// Options describes one app deployment and how sessions for it should be
// admitted. It is passed on every checkout; the pool records the most recent
// copy per group.
type Options struct {
	// AppRoot is the filesystem root of the app. It doubles as the group
	// identity unless AppGroupName is set.
	AppRoot string `json:"app_root"`

	// AppGroupName overrides the group key. Empty means AppRoot.
	AppGroupName string `json:"app_group_name,omitempty"`

	// AppType selects the framework entry point ("rack", "wsgi", ...).
	AppType string `json:"app_type,omitempty"`

	// SpawnMethod is "smart" or "conservative". The spawner interprets it;
	// the pool only forwards it.
	SpawnMethod string `json:"spawn_method,omitempty"`

	// MinProcesses is the lower bound of desired processes for this group.
	MinProcesses int `json:"min_processes,omitempty"`

	// MaxInstances caps this group. 0 = unlimited.
	MaxInstances int `json:"max_instances,omitempty"`

	// MaxRequests retires a process after this many sessions. 0 = unlimited.
	MaxRequests int `json:"max_requests,omitempty"`

	// UseGlobalQueue makes a checkout that can neither reuse an idle process
	// nor spawn one block on the pool-wide queue instead of the group queue.
	UseGlobalQueue bool `json:"use_global_queue,omitempty"`

	// RollingRestart replaces processes one by one on a restart trigger,
	// handing out old processes until each replacement is ready.
	RollingRestart bool `json:"rolling_restart,omitempty"`

	// IgnoreSpawnErrors tolerates background spawn failures by flagging the
	// group bad instead of surfacing the error.
	IgnoreSpawnErrors bool `json:"ignore_spawn_errors,omitempty"`

	// PrintExceptions controls spawn error log verbosity only.
	PrintExceptions bool `json:"print_exceptions,omitempty"`

	// RestartDir is where restart markers live. Absolute, or relative to
	// AppRoot. Empty means AppRoot/tmp.
	RestartDir string `json:"restart_dir,omitempty"`

	// StickySessionID prefers a process previously tagged with this id.
	StickySessionID string `json:"sticky_session_id,omitempty"`
}

// GroupName returns the key the pool groups processes under.
func (T *Options) GroupName() string {
	if T.AppGroupName != "" {
		return T.AppGroupName
	}
	return T.AppRoot
}
