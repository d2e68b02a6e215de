// Package config loads the watch configuration for the reload supervisor.
//
// The configuration lives in the project directory as .reload.toml (or
// .reload.yaml / .reload.yml). Every option has a default, so a project
// without a file still gets a working setup for a plain Go service:
//
//	root = "."
//	tmp_dir = "tmp"
//
//	[build]
//	cmd = "go build -o ./tmp/main ."
//	bin = "tmp/main"
//	include = ["**/*.go"]
//	exclude = ["tmp/**", "vendor/**", ".git/**", "**/*_test.go"]
//	delay = "1s"
//
//	[run]
//	cmd = "$RELOAD_ARTIFACT"
//	grace = "5s"
//
// Environment Variable Support:
//
// root, tmp_dir, env_file, build.cmd, build.bin and env values may reference
// environment variables using $VAR or ${VAR}. run.cmd is expanded at launch
// time instead, with RELOAD_ARTIFACT set to the binary being started.
//
// Example usage:
//
//	manager := config.NewManager(".")
//	if err := manager.Load(); err != nil {
//		log.Fatal(err)
//	}
//
//	cfg := manager.Get()
//	fmt.Println("building with:", cfg.Build.Cmd)
//
// Loaded configurations are immutable. Restart the supervisor to pick up a
// change.
package config
