package config

import "sync"

// ConfigCallback lets packages with global state (the logger) react when a
// configuration is loaded.
type ConfigCallback[T any] struct {
	mu        sync.Mutex
	callbacks []func(T)
}

func (cc *ConfigCallback[T]) AddCallback(callback func(T)) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.callbacks = append(cc.callbacks, callback)
}

func (cc *ConfigCallback[T]) Call(cfg T) {
	cc.mu.Lock()
	callbacks := make([]func(T), len(cc.callbacks))
	copy(callbacks, cc.callbacks)
	cc.mu.Unlock()

	for _, callback := range callbacks {
		callback(cfg)
	}
}
