// Package supervisor runs on the worker side of the bridge. It owns the
// inference engine session and drives the status state machine:
//
//	idle -> loading -> ready | error
//	ready -> generating -> ready   (done, error or abort)
//	any   -> idle                  (unload)
//
// Files are split by concern:
//
//   - supervisor.go: Supervisor, Serve loop and command dispatch.
//   - generate.go: the generation loop and cooperative abort.
//   - unload.go: draining and discarding the engine session.
//   - config.go: Config and package defaults.
//   - types.go: Status and Snapshot.
//   - adapter_iface.go: Engine/Session interfaces implemented by runtimes.
//   - adapter_llama.go: go-llama.cpp runtime, built with `-tags=llama`.
//   - adapter_llama_stub.go: CGO-free stub used when the tag is absent.
//   - preflight.go: model resolution checks run before loading.
//   - prompt.go: chat template rendering.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// The supervisor never exposes its engine session; everything that leaves
// the package is a protocol.Event.
package supervisor
