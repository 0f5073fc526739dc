package config

import "github.com/spf13/viper"

// DefaultSupportedVersions are the solver versions assumed installed on the
// cluster when the config does not list them.
var DefaultSupportedVersions = []string{"8.6", "8.7", "8.8", "9.0", "9.1", "9.2"}

// setDefaults registers every key so AutomaticEnv can reach all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("studies_in", "STUDIES_IN")
	v.SetDefault("output_dir", "FINISHED")
	v.SetDefault("log_dir", "LOGS")
	v.SetDefault("store_file", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("excludes", []string{})

	v.SetDefault("run.cpus", 12)
	v.SetDefault("run.time_limit", "240h")
	v.SetDefault("run.mode", "default")
	v.SetDefault("run.other_options", "")
	v.SetDefault("run.post_processing", false)
	v.SetDefault("run.solver_version", "")

	v.SetDefault("wait.interval", "15m")
	v.SetDefault("wait.workers", 1)

	v.SetDefault("remote.transport", "ssh")
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.key_passphrase", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.known_hosts_file", "")
	v.SetDefault("remote.dial_timeout", "30s")
	v.SetDefault("remote.local_home", "")
	v.SetDefault("remote.launch_script", "launchAntares.sh")
	v.SetDefault("remote.partition", "")
	v.SetDefault("remote.qos", "")
	v.SetDefault("remote.queue_user", "")
	v.SetDefault("remote.supported_versions", DefaultSupportedVersions)
	v.SetDefault("remote.poll_attempts", 5)
	v.SetDefault("remote.poll_delay", "1s")
	v.SetDefault("remote.poll_rate", 0.0)

	v.SetDefault("results.s3.bucket", "")
	v.SetDefault("results.s3.prefix", "")
	v.SetDefault("results.s3.region", "")
	v.SetDefault("results.s3.endpoint", "")
	v.SetDefault("results.s3.profile", "")
	v.SetDefault("results.s3.access_key_id", "")
	v.SetDefault("results.s3.secret_access_key", "")
	v.SetDefault("results.s3.force_path_style", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}
