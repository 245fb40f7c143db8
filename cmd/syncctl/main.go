package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/template"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/store-sync/cli"
	"github.com/vx-labs/store-sync/format"
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/replica"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

var StateTemplate = `• {{ .Connection | green | bold }} {{ .Change | faint }}
{{- range .Entries }}
  {{ .Key | faint }} {{ .Value | json }}
{{- end }}`

type entry struct {
	Key   string
	Value interface{}
}

type stateView struct {
	Connection string
	Change     string
	Entries    []entry
}

func newStateView(name, change string, state map[string]interface{}) stateView {
	view := stateView{Connection: name, Change: change}
	for key, value := range state {
		view.Entries = append(view.Entries, entry{Key: key + ":", Value: value})
	}
	sort.Slice(view.Entries, func(i, j int) bool { return view.Entries[i].Key < view.Entries[j].Key })
	return view
}

func stateTemplate() *template.Template {
	return format.ParseTemplate(fmt.Sprintf("%s\n", StateTemplate))
}

func dial(ctx context.Context, config *viper.Viper, logger *zap.Logger) (*transport.StreamConn, error) {
	endpoint := config.GetString("endpoint")
	name := config.GetString("name")
	var conn *transport.StreamConn
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(config.GetInt("retries"))), ctx)
	err := backoff.Retry(func() error {
		var err error
		switch kind := config.GetString("transport"); kind {
		case "tcp":
			conn, err = transport.DialTCP(ctx, endpoint, name, logger)
		case "tls":
			conn, err = transport.DialTLS(ctx, endpoint, name, &tls.Config{
				InsecureSkipVerify: config.GetBool("insecure"),
			}, logger)
		case "ws":
			u := url.URL{Scheme: "ws", Host: endpoint, Path: config.GetString("ws-path"), RawQuery: url.Values{"name": []string{name}}.Encode()}
			conn, err = transport.DialWS(ctx, u.String(), logger)
		default:
			return backoff.Permanent(fmt.Errorf("unknown transport %q", kind))
		}
		if err != nil {
			logger.Debug("failed to dial store sync daemon", zap.String("endpoint", endpoint), zap.Error(err))
		}
		return err
	}, policy)
	return conn, err
}

func connect(ctx context.Context, config *viper.Viper, logger *zap.Logger) *replica.Replica {
	conf, err := cli.LoadConfig(config)
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	err = conf.RequireMutations()
	if err != nil {
		logrus.Fatal(err)
	}
	container, err := cli.BuildContainer(conf)
	if err != nil {
		logrus.Fatalf("failed to build state container: %v", err)
	}
	conn, err := dial(ctx, config, logger)
	if err != nil {
		logrus.Fatalf("failed to dial %s: %v", config.GetString("endpoint"), err)
	}
	metadata := conn.Metadata()
	logger.Debug("connected to store sync daemon",
		zap.String("remote_address", metadata.RemoteAddress),
		zap.String("transport", metadata.Transport),
		zap.Bool("encrypted", metadata.Encrypted))
	r := replica.New(logger, conn, container, conf.IgnoredMutations)
	select {
	case <-r.Synced():
	case <-r.Done():
		logrus.Fatal("connection lost before the initial state was received")
	case <-time.After(config.GetDuration("timeout")):
		logrus.Fatal("timed out waiting for the initial state")
	}
	return r
}

func main() {
	ctx := context.Background()
	config := cli.NewViper()
	logger := zap.NewNop()
	var r *replica.Replica
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and mutate the state shared by a store sync daemon",
		Long: `Inspect and mutate the state shared by a store sync daemon.

syncctl keeps a local replica of the shared state, so it needs the mutation
mappings of the daemon: pass the daemon configuration file with --config.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if config.GetBool("verbose") {
				l, err := zap.NewDevelopment()
				if err == nil {
					logger = l
				}
			}
			r = connect(ctx, config, logger)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if r != nil {
				r.Close()
			}
		},
	}
	root.PersistentFlags().StringP("endpoint", "e", "localhost:4001", "Store sync daemon endpoint")
	config.BindPFlag("endpoint", root.PersistentFlags().Lookup("endpoint"))
	root.PersistentFlags().StringP("transport", "t", "tcp", "Transport used to reach the daemon (tcp, tls or ws)")
	config.BindPFlag("transport", root.PersistentFlags().Lookup("transport"))
	root.PersistentFlags().StringP("name", "n", fmt.Sprintf("syncctl-%s", uuid.New().String()), "Connection name")
	config.BindPFlag("name", root.PersistentFlags().Lookup("name"))
	root.PersistentFlags().StringP("ws-path", "", "/sync", "Websocket path")
	config.BindPFlag("ws-path", root.PersistentFlags().Lookup("ws-path"))
	root.PersistentFlags().BoolP("insecure", "k", false, "Skip TLS certificate verification")
	config.BindPFlag("insecure", root.PersistentFlags().Lookup("insecure"))
	root.PersistentFlags().IntP("retries", "", 5, "Dial attempts before giving up")
	config.BindPFlag("retries", root.PersistentFlags().Lookup("retries"))
	root.PersistentFlags().DurationP("timeout", "", 10*time.Second, "Initial state timeout")
	config.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	root.PersistentFlags().BoolP("verbose", "v", false, "Log connection activity")
	config.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	cli.AddConfigFlags(root, config)

	root.AddCommand(State(config, &r))
	root.AddCommand(Watch(config, &r))
	root.AddCommand(Commit(config, &r))
	root.Execute()
}

func State(config *viper.Viper, r **replica.Replica) *cobra.Command {
	return &cobra.Command{
		Use:     "state",
		Aliases: []string{"get"},
		Short:   "Print the shared state",
		Run: func(cmd *cobra.Command, _ []string) {
			tpl := stateTemplate()
			tpl.Execute(os.Stdout, newStateView(config.GetString("name"), mutation.StateMessage, (*r).State()))
		},
	}
}

func Watch(config *viper.Viper, r **replica.Replica) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the shared state every time it changes",
		Run: func(cmd *cobra.Command, _ []string) {
			tpl := stateTemplate()
			name := config.GetString("name")
			tpl.Execute(os.Stdout, newStateView(name, mutation.StateMessage, (*r).State()))
			(*r).OnChange(func(mutationType string, state map[string]interface{}) {
				tpl.Execute(os.Stdout, newStateView(name, mutationType, state))
			})
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			select {
			case <-sigc:
			case <-(*r).Done():
				logrus.Warn("connection lost")
			}
		},
	}
}

func Commit(config *viper.Viper, r **replica.Replica) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <mutation-type> [json-payload]",
		Short: "Commit a mutation and print the resulting state",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			var payload interface{}
			if len(args) == 2 {
				err := json.Unmarshal([]byte(args[1]), &payload)
				if err != nil {
					logrus.Fatalf("invalid payload: %v", err)
				}
			}
			err := (*r).Commit(args[0], payload)
			if err != nil {
				logrus.Fatalf("failed to commit %s: %v", args[0], err)
			}
			tpl := stateTemplate()
			tpl.Execute(os.Stdout, newStateView(config.GetString("name"), args[0], (*r).State()))
		},
	}
}
