/*
Package events provides an in-process publish/subscribe broker for
experiment outcomes.

The orchestrator publishes an event whenever something a user or operator
cares about happens: the experiment starting, completing or failing, a
partition artifact being written or left incomplete, a sub-computation table
being combined, and tasks failing or being redelivered.

# Event Types

	experiment.started      seed accepted
	experiment.completed    completed marker recorded
	experiment.failed       failed marker recorded
	partition.completed     artifact written for a partition
	partition.incomplete    a partition cannot finish because a task died
	table.combined          a sub-computation table was assembled
	task.failed             a task exhausted its attempts
	task.redelivered        an expired lease was returned to the queue

# Delivery

Publish never blocks. Events go through a 256-entry buffer to a distribution
goroutine started by Start; each subscriber has a 64-entry buffer and misses
events while it is full. Events are a reporting channel, never a source of
truth: the status markers and the store carry the durable state.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventPartitionIncomplete)
	for e := range sub {
		fmt.Println(e.Message)
	}
*/
package events
