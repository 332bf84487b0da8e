package hostchain

// Storage Backend Comparison
//
// Host state can live in four backends, all behind the Store interface:
//
// 1. Line File (file_store.go) - DEFAULT
//    - One "<address>;<seed>;<stored>\r" line per host
//    - flock on a sidecar .lock file, rewrite by temp file + rename
//    - Readable and editable by hand; `hostchain check` audits it
//    - Best for: a single client or responder on one machine
//
// 2. SQLite (sqlite_store.go)
//    - hosts table keyed by address, WAL mode
//    - Each update is one serializable transaction
//    - Best for: many hosts, or sharing one state file between tools
//
// 3. Redis (redis_store.go)
//    - One hash, field per address, value "<seed>;<stored>"
//    - Updates use WATCH/MULTI and retry on conflict
//    - Best for: several responder processes serving the same realm
//
// 4. Memory (store.go)
//    - Nothing survives the process
//    - Best for: tests and throwaway sessions
//
// Usage Examples:
//
// === Line File (Default) ===
//
//   st, err := hostchain.OpenFileStore("/var/lib/hostchain/hosts.txt")
//   if err != nil {
//       log.Fatal(err)
//   }
//   hosts := hostchain.NewHostStore(st)
//   if _, err := hosts.LoadAll(); err != nil {
//       log.Fatal(err)
//   }
//
//
// === Any Backend by DSN ===
//
//   st, err := hostchain.OpenStore("sqlite:/var/lib/hostchain/hosts.db")
//   st, err := hostchain.OpenStore("redis://127.0.0.1:6379/hostchain:hosts")
//
//
// === Moving Between Backends ===
//
//   snap, _ := hostchain.ExportSnapshot(fileStore, time.Now())
//   imported, skipped, err := hostchain.ImportSnapshot(sqliteStore, snap)
//
// The same moves are available as `hostchain export` and `hostchain import`.
//
// Stored Counters:
//
// Every backend persists counter + 2 and adds 2 for each confirmed exchange,
// one for the request and one for the reply. The in-memory counter is
// rebuilt from that value on load, so a client and a responder that both
// persisted the same exchanges restart in step.
//
// | Backend | Locking           | Update            | Order on Load   |
// |---------|-------------------|-------------------|-----------------|
// | File    | flock + mutex     | rename whole file | file order      |
// | SQLite  | transaction       | UPDATE row        | insertion order |
// | Redis   | WATCH/MULTI       | HSET field        | by address      |
// | Memory  | mutex             | map write         | insertion order |
