package cardstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type write struct {
	key     string
	value   []byte // nil deletes the key
	barrier chan struct{}
}

// writer applies queued writes to the backend in order on one goroutine.
type writer struct {
	kv      KV
	timeout time.Duration
	queue   chan write
	done    chan struct{}
	onError func(key string, err error)
}

func newWriter(kv KV, size int, timeout time.Duration) *writer {
	w := &writer{
		kv:      kv,
		timeout: timeout,
		queue:   make(chan write, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for wr := range w.queue {
		if wr.barrier != nil {
			close(wr.barrier)
			continue
		}
		w.apply(wr)
	}
}

func (w *writer) apply(wr write) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	if wr.value == nil {
		err = w.kv.Delete(ctx, wr.key)
	} else {
		err = w.kv.Put(ctx, wr.key, wr.value)
	}
	if err != nil {
		log.Error().Err(err).Str("key", wr.key).Msg("cardstore: durable write failed")
		if w.onError != nil {
			w.onError(wr.key, err)
		}
	}
}
