package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type shutdownHook struct {
	name string
	f    func() error
}

// Context holds the process-wide logger and the shutdown hooks run on
// termination.
type Context struct {
	ID     string
	Logger *zap.Logger
	hooks  []shutdownHook
}

func Bootstrap() *Context {
	id := uuid.New().String()
	ctx := &Context{
		ID: id,
	}
	var logger *zap.Logger
	var err error
	opts := []zap.Option{
		zap.Fields(zap.String("node_id", id), zap.String("version", Version())),
	}
	if os.Getenv("ENABLE_PRETTY_LOG") == "true" {
		logger, err = zap.NewDevelopment(opts...)
	} else {
		logger, err = zap.NewProduction(opts...)
	}
	if err != nil {
		panic(err)
	}
	ctx.Logger = logger
	return ctx
}

// OnShutdown registers f to be called when the process terminates. Hooks run
// in reverse registration order.
func (ctx *Context) OnShutdown(name string, f func() error) {
	ctx.hooks = append(ctx.hooks, shutdownHook{name: name, f: f})
}

func (ctx *Context) shutdown() {
	for idx := len(ctx.hooks) - 1; idx >= 0; idx-- {
		hook := ctx.hooks[idx]
		err := hook.f()
		if err != nil {
			ctx.Logger.Error(fmt.Sprintf("failed to stop %s", hook.name), zap.Error(err))
			continue
		}
		ctx.Logger.Info(fmt.Sprintf("stopped %s", hook.name))
	}
}

// Run blocks until a termination signal is received, then runs the shutdown
// hooks.
func (ctx *Context) Run() {
	defer ctx.Logger.Sync()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	<-sigc
	ctx.Logger.Info("received termination signal")
	ctx.shutdown()
}
