package nats

import "fmt"

// ClaimSubject builds the well-known subject a Singleton queue claims on
// declaration, and where a late claimant finds out someone already holds
// the address.
func ClaimSubject(queueName string) string {
	return fmt.Sprintf("$SYS.claim.%s", queueName)
}

// DataSubject builds the subject a queue actually receives deliveries on
// from namespace and routing key.
func DataSubject(namespace, routingKey string) string {
	return fmt.Sprintf("%s.%s", namespace, routingKey)
}
