package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"phasetrack/config"

	kafkago "github.com/segmentio/kafka-go"
)

type kafkaTransport struct {
	brokers []string
	groupID string
	w       *kafkago.Writer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	readers []*kafkago.Reader
}

func dialKafka(cfg *config.MessagingConfig) (*kafkaTransport, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = cfg.NodeID
	}
	ctx, cancel := context.WithCancel(context.Background())
	k := &kafkaTransport{
		brokers: cfg.Kafka.Brokers,
		groupID: groupID,
		ctx:     ctx,
		cancel:  cancel,
		w: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Kafka.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
	log.Printf("messaging: kafka writer for %v (group %s)", k.brokers, groupID)
	return k, nil
}

func (k *kafkaTransport) publish(topic string, payload []byte) error {
	return k.w.WriteMessages(k.ctx, kafkago.Message{Topic: topic, Value: payload})
}

func (k *kafkaTransport) subscribe(topic string, handler func([]byte)) error {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: k.groupID,
	})
	k.readers = append(k.readers, r)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			msg, err := r.ReadMessage(k.ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("messaging: kafka read %s: %v", topic, err)
				}
				return
			}
			handler(msg.Value)
		}
	}()
	return nil
}

func (k *kafkaTransport) connected() bool { return k.ctx.Err() == nil }

func (k *kafkaTransport) close() {
	k.cancel()
	for _, r := range k.readers {
		r.Close()
	}
	k.wg.Wait()
	k.w.Close()
}
