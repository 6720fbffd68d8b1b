/*
Package events provides an in-memory event broker for pub/sub messaging
between the Storage Façade, the Commission Coordinator, and the Quotaholder.

The events package implements a lightweight, topic-agnostic event bus:
every event is broadcast to every subscriber over a buffered channel. It
exists to decouple the reconciler and any future notification consumers
from the request path that produces object and commission lifecycle events.

# Architecture

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each, drop-on-full)

# Event Types

Object Events:
  - object.created / object.updated / object.deleted

Container Events:
  - container.created / container.deleted

Commission Events:
  - commission.issued / commission.accepted / commission.rejected
  - commission.reconciled (resolved by the coordinator's sweep rather than
    the originating client)

Other:
  - quota.exceeded
  - raft.leader_changed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventCommissionAccepted,
		Message: "commission 1038 accepted",
		Metadata: map[string]string{"client": "pithos"},
	})

	for ev := range sub {
		log.Info(ev.Message)
	}

# Design Notes

Publish blocks only while the 100-event publish channel is full (until the
broadcast loop drains it or the broker is stopped). The broadcast loop never
blocks: a full subscriber buffer drops the event for that subscriber. Subscribers that need
durable delivery should persist state themselves (e.g. the reconciler reads
CommissionSerial rows directly rather than relying solely on events).
*/
package events
