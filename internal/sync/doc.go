// Package sync implements the bidirectional row synchronization protocol
// between one server database and many client databases.
//
// # Participants
//
// A LocalOrchestrator performs the work of one side against its own
// database: provisioning, schema discovery, change selection and change
// application. A RemoteOrchestrator wraps the server's LocalOrchestrator
// and keeps per-session state between requests. An Agent drives a client
// session against any Remote, in process or over HTTP:
//
//	server := sync.NewRemoteOrchestrator(serverProvider, setup, sync.DefaultOptions(), nil)
//	client := sync.NewLocalOrchestrator(clientProvider, nil, sync.DefaultOptions(), interceptor.Client)
//
//	result, err := sync.NewAgent(client, server).Synchronize(ctx, "default", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(result.Summary())
//
// # Session flow
//
// A session moves through EnsureScopes, EnsureSchema, SendChanges (one
// request per client part), GetMoreChanges (one request per further server
// part) and EndSession. The client's watermark, the server tick it has
// applied changes up to, is saved only after EndSession succeeds, so a
// failed or cancelled session is replayed in full by the next one.
// Replayed rows are recognized by their originator and skipped.
//
// # Conflicts
//
// A row changed on both sides since their last sync is a conflict. The
// server's ConflictPolicy decides it on both sides:
//   - PolicyServerWins: the server version is kept
//   - PolicyClientWins: the client version is kept
//   - PolicyLastWriterWins: the newest modification wins, the server on a tie
//   - PolicyCustom: a ConflictArgs interceptor decides or merges
package sync
