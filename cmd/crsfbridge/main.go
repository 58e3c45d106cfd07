package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/bridge"
	"github.com/robotalks/crsflink/pkg/cli/sh"
	"github.com/robotalks/crsflink/pkg/env"
	fx "github.com/robotalks/crsflink/pkg/framework"
	"github.com/robotalks/crsflink/pkg/status"
)

var interactive bool

func init() {
	env.SetupFlags()
	sh.SetupFlags()
	flag.BoolVar(&interactive, "shell", interactive, "Attach an interactive shell.")
}

func run(conf *env.Config) error {
	peers := conf.MustNewPeerTable()
	port, duplex := conf.MustOpenSerial()
	defer port.Close()
	tr, broker := conf.MustNewTransport()
	if broker != nil {
		defer broker.Close()
	}

	b, err := bridge.New(port, tr, peers, conf.BridgeConfig())
	if err != nil {
		return err
	}
	if duplex != nil {
		b.Handset().Duplex = duplex
	}
	defer b.Close()
	glog.Infof("bridge %s: %s -> %d peers", conf.ID, conf.Serial, peers.Len())

	r := fx.NewRunner().HandleSignals()
	r.Go(
		fx.NamedRun("bridge", fx.RunnableFunc(b.Run)),
		fx.NamedRun("systemd", &status.Notifier{Liveness: b}),
	)
	if conf.StatusAddr != "" {
		r.Go(fx.NamedRun("http", status.NewServer(conf.ID, conf.StatusAddr, b)))
	}
	if broker != nil && conf.StatusMQTT {
		reporter := status.NewReporter(conf.ID, b, broker)
		reporter.Channels = true
		r.Go(fx.NamedRun("reporter", reporter))
	}
	if interactive {
		shell := sh.New(conf.ID, b)
		r.Go(fx.NamedRun("shell", fx.RunnableFunc(func(ctx context.Context) error {
			defer r.Stop()
			return shell.Run(ctx)
		})))
	}
	return r.Wait()
}

func main() {
	flag.Parse()
	defer glog.Flush()
	if err := run(env.Default()); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}
