package hostchain

// Example: One Authenticated Exchange
//
// Client C talks to realm "r1" on responder R for the first time. Both sides
// end up with the same seed S and counter, and the same stored value.
//
//   C: counter 0, S = time of first contact
//      headers: X-Time-Sent = S, X-CheckSum = V(S, 0); counter -> 1
//   R: peer unknown, registers it with S (stored 2)
//      V(S, 0) matches; counter -> 1
//      reply: "Host r1 - GRANTED - Packet no: 1", X-CheckSum = V(S, 1)
//      counter -> 2; stored 2 -> 4
//   C: V(S, 1) matches; counter -> 2; stored 2 -> 4
//
// where V(S, n) = sha256hex(sha256hex(S) + decimal(n)).
//
// The next request carries X-Time-Sent = "[YOU HAVE TO KNOW]" and V(S, 2).
//
// Usage:
//   st, _ := hostchain.OpenStore("file:hosts.txt")
//   hosts := hostchain.NewHostStore(st)
//   hosts.LoadAll()
//   c := hostchain.NewClient(hostchain.Config{}, hosts, hostchain.NewHTTPTransport(nil))
//   res, err := c.Exchange(ctx, "GET", "https://server.example:5000/r1", nil)
//   // res.Outcome is granted, rejected or wrong_checksum
//
//   // responder side
//   r := hostchain.NewResponder()
//   r.AddRealm("r1", realmHosts)
//   hostchain.NewServer(r).ListenAndServeTLS(":5000", "cert.pem", "key.pem")
//
// Outcomes on the client:
//
// granted:        reply checksum valid, verdict "GRANTED"; advance, persist
// rejected:       reply checksum valid, peer refused; advance, persist only
//                 with Config.PersistRejected
// wrong_checksum: reply checksum invalid or missing; nothing persisted, the
//                 counter stays one ahead of the stored value
//
// Attack Scenarios:
//
// Scenario 1: Replay of a captured request
//   - R has already moved past the counter in the request
//   - Result: R answers DENIED with "[YOU ARE NOT GETTING IT]"
//
// Scenario 2: Impostor responder
//   - Does not know S, or echoes the request checksum V(S, n)
//   - C expects V(S, n+1)
//   - Result: wrong_checksum, nothing persisted
//
// Scenario 3: Seed observed during the first exchange
//   - S travels in clear until both counters reach 2
//   - Result: an observer of first contact can follow the chain; run the
//     exchange over TLS
