// Command sbt is the static binary translator's CLI: it turns statically
// linked 32-bit RISC-V ELF objects into LLVM IR, and offers a read-only
// TUI for browsing a parsed object.
package main

func main() {
	Execute()
}
