package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "Auditum/examples/modules/records"
)

// main 是 Auditum 宿主进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "auditumd 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
