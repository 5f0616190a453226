// Package artifact defines the data model shared by every curator component:
// artifact references and nodes, lifecycle statuses, relationship kinds, and
// the classified error taxonomy.
//
// References compare by (url, version) when both carry a version and by url
// alone otherwise. Nodes are plain values; Clone produces the pending-write
// copies lifecycle operations mutate.
//
// Errors are *Error values classified by ErrorKind. Callers test them with
// errors.Is against the package sentinels:
//
//	if errors.Is(err, artifact.ErrCyclicDependency) {
//		var e *artifact.Error
//		errors.As(err, &e)
//		fmt.Println(artifact.FormatPath(e.Path))
//	}
package artifact
