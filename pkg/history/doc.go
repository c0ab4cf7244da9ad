// Package history defines the persisted email history record and the store
// adapters (memory, MongoDB, DynamoDB) that save and query it by status.
package history
