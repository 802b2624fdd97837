// Package config loads electiond's tunables from flags, environment and
// an optional file via viper, the way the rest of the corpus wires its
// CLI configuration (cobra + viper) rather than the teacher's bare flag
// package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quorumkit/election/membertable"
)

const envPrefix = "ELECTIOND"

// Config is the demo binary's full tunable set: the election.Config
// tunables of spec §6 plus the cluster addressing a runnable process
// needs that the election package itself has no opinion on.
type Config struct {
	MemberID membertable.ID
	Peers    map[membertable.ID]string // member id -> loopback/transport address, demo-only

	StatusInterval          time.Duration
	LeaderHeartbeatInterval time.Duration
	ElectionTimeout         time.Duration
	StartupStatusTimeout    time.Duration
	AppointedLeaderID       int
	HasAppointedLeader      bool

	LogChannel  string
	LogEndpoint string
	DataDir     string
}

// BindFlags registers electiond's flags on fs, for a cobra.Command's
// PersistentFlags/Flags set.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("member-id", 0, "this member's id within the static cluster membership")
	fs.StringToString("peers", nil, "member id -> address map, e.g. 0=localhost:7000,1=localhost:7001")
	fs.Duration("status-interval", 100*time.Millisecond, "canvass broadcast interval (also bounds the nomination jitter)")
	fs.Duration("leader-heartbeat-interval", 200*time.Millisecond, "leader's NewLeadershipTerm broadcast interval")
	fs.Duration("election-timeout", time.Second, "ballot/canvass/follower-ready deadline")
	fs.Duration("startup-status-timeout", 5*time.Second, "canvass deadline used only for the first election after startup")
	fs.Int("appointed-leader-id", -1, "if >= 0, this member id nominates itself at once and the others wait in canvass")
	fs.String("log-channel", "aeron:udp?endpoint=localhost:20123", "base channel URI for the log subscription/destination")
	fs.String("log-endpoint", "localhost:20123", "this member's own log endpoint")
	fs.String("data-dir", "./data", "directory for the mark-file and recording log")
	fs.String("config", "", "optional YAML config file overriding defaults")
}

// Load reads bound flags, ELECTIOND_*-prefixed environment variables,
// and an optional YAML file (if --config is set) into a Config.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	peerStrings := v.GetStringMapString("peers")
	peers := make(map[membertable.ID]string, len(peerStrings))
	for k, addr := range peerStrings {
		var id int
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return Config{}, fmt.Errorf("config: peers key %q is not a member id: %w", k, err)
		}
		peers[membertable.ID(id)] = addr
	}

	appointed := v.GetInt("appointed-leader-id")
	cfg := Config{
		MemberID:                membertable.ID(v.GetInt("member-id")),
		Peers:                   peers,
		StatusInterval:          v.GetDuration("status-interval"),
		LeaderHeartbeatInterval: v.GetDuration("leader-heartbeat-interval"),
		ElectionTimeout:         v.GetDuration("election-timeout"),
		StartupStatusTimeout:    v.GetDuration("startup-status-timeout"),
		AppointedLeaderID:       appointed,
		HasAppointedLeader:      appointed >= 0,
		LogChannel:              v.GetString("log-channel"),
		LogEndpoint:             v.GetString("log-endpoint"),
		DataDir:                 v.GetString("data-dir"),
	}
	return cfg, nil
}
