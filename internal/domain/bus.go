package domain

// EventBus carries inbound trigger events from the gateway to the automation
// engine.
type EventBus interface {
	Publish(ev TriggerEvent)
	Subscribe() <-chan TriggerEvent
	Close()
}
