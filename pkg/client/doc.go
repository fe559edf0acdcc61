// Package client provides a Go SDK for the task queue's producer and
// admin HTTP surface (cmd/api-server), plus a WebSocket client for
// real-time event streaming.
//
// # Basic Usage
//
//	client, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Submit a task
//	job, err := client.SubmitTask(ctx, client.CreateTaskRequest{
//	    Path: "Add",
//	    Params: map[string]interface{}{"a": 2, "b": 3},
//	})
//
// # WebSocket Events
//
//	err := client.ConnectWebSocket(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.CloseWebSocket()
//
//	for event := range client.Events() {
//	    fmt.Printf("Event: %s\n", event.Type)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	client, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30 * time.Second),
//	)
package client
