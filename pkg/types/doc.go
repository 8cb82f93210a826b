/*
Package types defines the shared domain model: tenants, plans,
subscriptions, API keys, and the Job record with its status and kind
enums. Enum columns use the stable string values stored in the
database, so these constants are part of the persistence contract.
*/
package types
