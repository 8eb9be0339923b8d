/*
Package loader fetches the interaction stream for a contract from a gateway.

	┌─────────────────────── LOADER ────────────────────────────┐
	│                                                              │
	│  GatewayPool      round-robin + health-probed selection     │
	│        │          among several gateway base URLs           │
	│        ▼                                                    │
	│  GatewayLoader    REST /gateway/interactions-sort-key,      │
	│                   paginated, retried via go-retryablehttp   │
	│                                                              │
	│  GQLLoader        same fetch contract over GraphQL, for     │
	│                   gateways that only expose that            │
	│                                                              │
	│  CachingLoader    wraps either with a per-contract,         │
	│                   incrementally-extended in-memory cache    │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘
*/
package loader
