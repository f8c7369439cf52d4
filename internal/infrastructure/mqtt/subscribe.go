package mqtt

import "fmt"

// Subscribe registers handler for topic, which may contain the + and #
// wildcards. The subscription is replayed after every reconnect.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed when the broker does not acknowledge in time
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := c.awaitSubscribe(topic, qos, handler); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) awaitSubscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.paho.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no SUBACK within %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// SubscribeCommands routes every command topic of this instance to handler,
// which receives the command name ("reset" for modsim/<id>/command/reset).
func (c *Client) SubscribeCommands(handler func(name string, payload []byte) error) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(c.topics.AllCommands(), byte(c.cfg.QoS), func(topic string, payload []byte) error {
		name := c.topics.CommandName(topic)
		if name == "" {
			return fmt.Errorf("unexpected command topic %q", topic)
		}
		return handler(name, payload)
	})
}

// SubscriptionCount returns the number of registered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
