// Command receiptctl 提供重建索引、命令行问答、数据清理与本地导入等维护操作。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
