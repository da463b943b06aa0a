package main

// GlobalFlags holds the persistent flags of every command.
type GlobalFlags struct {
	ConfigPath   string
	LogLevel     string // overrides [log] level when set
	ElevatedWait bool   // hidden; set on the elevated relaunch
}

// RunFlags selects the stages of `sysmaint run`.
type RunFlags struct {
	Memory bool
	Purge  bool
	Health bool
	All    bool
}
