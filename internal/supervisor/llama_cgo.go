//go:build llama

package supervisor

// Link flags for the llama build. libllama.so and libggml*.so are expected in
// ./bin at link time and next to the binary at run time ($ORIGIN rpath), so
// a process-mode worker started from the same directory finds them too.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
