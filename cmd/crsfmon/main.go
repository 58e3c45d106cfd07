package main

import (
	"context"
	"flag"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/robotalks/crsflink/pkg/crsf"
	fx "github.com/robotalks/crsflink/pkg/framework"
	"github.com/robotalks/crsflink/pkg/status"
	"github.com/robotalks/crsflink/pkg/transport/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/crsf/"
	filter  = "#"
)

func init() {
	if val := os.Getenv("CRSF_TRANSPORT_URL"); strings.HasPrefix(val, "mqtt") {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&filter, "topic", filter, "Topic filter.")
}

func channelsString(ch crsf.ChannelData) string {
	var sb strings.Builder
	for n, v := range ch {
		if n > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(crsf.ToMicroseconds(v)))
	}
	return sb.String()
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	b, err := mqtt.Dial(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	defer b.Close()

	sub := b.Sub(filter, mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasPrefix(topic, "bridge/") {
			msg, err := status.Decode(payload)
			if err != nil {
				log.Printf("%s: bad message: %v", topic, err)
				return
			}
			log.Printf("%s: [%s] %s", topic,
				reflect.Indirect(reflect.ValueOf(msg)).Type().Name(), msg.String())
			return
		}
		if strings.HasSuffix(topic, "/channels") {
			ch, err := crsf.DecodeChannels(payload)
			if err != nil {
				log.Printf("%s: %v", topic, err)
				return
			}
			log.Printf("%s: %s", topic, channelsString(ch))
			return
		}
		log.Printf("%s: %d bytes", topic, len(payload))
	}))
	defer sub.Close()

	r := fx.NewRunner().HandleSignals()
	r.Go(fx.RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))
	if err := r.Wait(); err != nil {
		log.Fatalln(err)
	}
}
