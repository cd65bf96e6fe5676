// file: cmd/querymind/hash_password.go
package main

import (
	"QueryMind/internal/service"
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newHashPasswordCmd 生成写入 auth.admin_password_hash 的 bcrypt 哈希。
// 未给出参数时从标准输入读取一行，避免密码留在 shell 历史中。
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "生成管理员密码的 bcrypt 哈希",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pass string
			if len(args) == 1 {
				pass = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("未能从标准输入读取密码")
				}
				pass = strings.TrimRight(line, "\r\n")
			}
			hash, err := service.HashPassword(pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
