/*
Package events is an in-memory pub/sub broker for pipeline events.

Components publish what happened (a sample accepted, a flush finished, the
session needing a PIN) and observers such as `trail run --watch` or the admin
API subscribe, optionally to a subset of event types. Delivery is best effort: Publish never blocks, and a
subscriber whose 50-event buffer is full misses events.

The broker is not the escalation channel. The PIN-required signal that the UI
must act on goes through auth.Escalation, which guarantees single delivery;
the auth.pin_required event here is informational.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventFlushFailed, events.EventAuthPinRequired)
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}
*/
package events
