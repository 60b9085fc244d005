// Command picasctl is a non-interactive inspection CLI for a PICAS
// allocator instance: reporting aggregate stats, dumping the trace log as
// CSV, and driving a synthetic allocation workload for demonstration.
package main

func main() {
	execute()
}
