package shm

import "fmt"

// Deterministic names shared between the engine and the saver. Both
// sides derive the same name from the namespace and local shard ID;
// this naming contract replaces any network address.

// StagingName is the staging segment name for a local shard.
func StagingName(namespace string, shardID int) string {
	return fmt.Sprintf("%s_shard_%d", namespace, shardID)
}

// LockName is the shared lock name for a local shard.
func LockName(namespace string, shardID int) string {
	return fmt.Sprintf("%s_shard_lock_%d", namespace, shardID)
}

// EventQueueName is the control-event queue name for a node.
func EventQueueName(namespace string) string {
	return namespace + "_events_0"
}

// FactoryQueueName is the one-shot saver bootstrap queue name for a node.
func FactoryQueueName(namespace string) string {
	return namespace + "_factory"
}
