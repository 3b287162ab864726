package main

type RunCmd struct {
	Config      string `arg:"--config" help:"path to a TOML config file"`
	HttpAddr    string `arg:"--http-addr" help:"address of the HTTP server, overrides the config"`
	TrackerAddr string `arg:"--tracker-addr" help:"address of the tracker server, overrides the config"`
}

type FetchCmd struct {
	Config string `arg:"--config" help:"path to a TOML config file"`
	URL    string `arg:"--url,required" help:"origin URL of the content to fetch"`
}

type PushCmd struct {
	Tracker string `arg:"--tracker,required" help:"address of the tracker server"`
	File    string `arg:"--file,required" help:"path to an encoded descriptor"`
	Key     string `arg:"--key" help:"content key; derived from the content id when empty"`
}

type Arguments struct {
	Run      *RunCmd   `arg:"subcommand:run" help:"run the node"`
	Fetch    *FetchCmd `arg:"subcommand:fetch" help:"fetch content once"`
	Push     *PushCmd  `arg:"subcommand:push" help:"push a descriptor to a tracker"`
	Version  bool      `arg:"-v" help:"show version and exit"`
	LogLevel string    `arg:"--log-level" help:"set the log level, overrides log_level in the config (default info)"`
}

var version string
