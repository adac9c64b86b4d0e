package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quarterhalt/cfddns/internal/detect"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print the public addresses that would be used, without touching DNS",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		v.AutomaticEnv()
		v.SetDefault("IP4_PROVIDER", "auto")
		v.SetDefault("IP6_PROVIDER", "auto")
		v.SetDefault("REQUEST_TIMEOUT", "10s")

		ipv4, err := detect.ParseSource(v.GetString("IP4_PROVIDER"), detect.IPv4)
		if err != nil {
			return fmt.Errorf("IP4_PROVIDER: %w", err)
		}
		ipv6, err := detect.ParseSource(v.GetString("IP6_PROVIDER"), detect.IPv6)
		if err != nil {
			return fmt.Errorf("IP6_PROVIDER: %w", err)
		}
		timeout := v.GetDuration("REQUEST_TIMEOUT")
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		ctx, cancel := signalContext()
		defer cancel()

		detector := detect.New(ipv4, ipv6, timeout, logrus.NewEntry(logger), http.DefaultClient)
		result := detector.Detect(ctx)

		printed := false
		for _, addr := range []*detect.Address{result.IPv4, result.IPv6} {
			if addr == nil {
				continue
			}
			fmt.Printf("%s\t%s\t(%s)\n", addr.Family, addr.Addr, addr.Source)
			printed = true
		}
		if !printed {
			return fmt.Errorf("no addresses could be detected")
		}
		return nil
	},
}
