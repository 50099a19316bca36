package publish

import (
	"time"
)

func NewKafkaWithWriter(w messageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic}
}

func NewRedisWithClient(c redisClient, channel string, ttl func(string) time.Duration) *Redis {
	return newRedis(c, channel, ttl)
}
