package network

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Configuration describes where a listener binds. A zero port disables the
// listener.
type Configuration struct {
	name        string
	bindAddress string
	bindPort    int
}

func (c Configuration) Name() string {
	return c.name
}
func (c Configuration) Enabled() bool {
	return c.bindPort != 0
}

// Address returns the host:port string to listen on.
func (c Configuration) Address() string {
	return net.JoinHostPort(c.bindAddress, strconv.Itoa(c.bindPort))
}

func bindAddressFlagName(name string) string {
	return fmt.Sprintf("%s-bind-address", name)
}
func bindPortFlagName(name string) string {
	return fmt.Sprintf("%s-bind-port", name)
}

func ConfigurationFromFlags(v *viper.Viper, name string) (Configuration, error) {
	config := Configuration{
		name:        name,
		bindAddress: v.GetString(bindAddressFlagName(name)),
		bindPort:    v.GetInt(bindPortFlagName(name)),
	}
	if net.ParseIP(config.bindAddress) == nil {
		return config, errors.Errorf("invalid bind address specified for %s listener: %q", name, config.bindAddress)
	}
	if config.bindPort < 0 || config.bindPort > 65535 {
		return config, errors.Errorf("invalid bind port specified for %s listener: %d", name, config.bindPort)
	}
	return config, nil
}

func RegisterFlagsForService(cmd *cobra.Command, config *viper.Viper, name string, defaultPort int) {
	long := bindPortFlagName(name)
	longAddr := bindAddressFlagName(name)

	cmd.Flags().IntP(long, "", defaultPort, fmt.Sprintf("Start %s listener on this port (0 disables it)", name))
	config.BindPFlag(long, cmd.Flags().Lookup(long))

	cmd.Flags().StringP(longAddr, "", "0.0.0.0", fmt.Sprintf("Start %s listener on this address", name))
	config.BindPFlag(longAddr, cmd.Flags().Lookup(longAddr))
}
