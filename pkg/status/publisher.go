package status

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/bridge"
)

// DefaultPublishInterval is the default interval of status events.
const DefaultPublishInterval = time.Second

// Topic suffixes under bridge/<id>/.
const (
	TopicStatus   = "status"
	TopicChannels = "channels"
)

// Publisher is where events are published.
type Publisher interface {
	Pub(topic string, payload []byte) paho.Token
}

// Source provides snapshots of a bridge.
type Source interface {
	Snapshot() bridge.Snapshot
}

// Reporter periodically publishes LinkStatus and ChannelsEvent.
type Reporter struct {
	ID        string
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	// Channels enables ChannelsEvent along with every LinkStatus.
	Channels bool
}

// NewReporter creates a Reporter with the default interval.
func NewReporter(id string, src Source, pub Publisher) *Reporter {
	return &Reporter{ID: id, Source: src, Publisher: pub, Interval: DefaultPublishInterval}
}

// Topic returns the full topic of an event.
func (r *Reporter) Topic(suffix string) string {
	return "bridge/" + r.ID + "/" + suffix
}

// Run implements framework.Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report publishes the current snapshot once.
func (r *Reporter) Report() {
	snap := r.Source.Snapshot()
	r.publish(TopicStatus, NewLinkStatus(r.ID, snap))
	if r.Channels {
		r.publish(TopicChannels, NewChannelsEvent(r.ID, snap))
	}
}

func (r *Reporter) publish(suffix string, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		glog.Errorf("encode %T: %v", msg, err)
		return
	}
	// fire and forget, errors show up on the next report
	if token := r.Publisher.Pub(r.Topic(suffix), data); token.Error() != nil {
		glog.V(2).Infof("publish %s: %v", suffix, token.Error())
	}
}
