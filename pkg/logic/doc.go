// Package logic runs the Starlark logic embedded in artifacts and Starlark
// version convention scripts.
//
// Embedded logic must define an evaluate function taking one argument, a
// struct describing the artifact and the operation:
//
//	def evaluate(ctx):
//	    if ctx.status == "active" and not ctx.title:
//	        return ["active artifacts need a title"]
//	    return True
//
// evaluate may return a bool, a failure message string, a list of failure
// messages (empty means passed) or a dict with "passed" and "messages" keys.
// Scripts run without file or network access and are bounded by a step
// budget and a timeout.
package logic
