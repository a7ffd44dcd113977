// cmd/console — 行式终端聊天控制台入口。
//
// 命令: /interrupt /inject <msg> /approve /reject /history /new /quit,
// 其余输入作为消息发送。
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/multi-agent/go-console-v2/internal/client"
	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/database"
	"github.com/multi-agent/go-console-v2/internal/protocol"
	"github.com/multi-agent/go-console-v2/internal/session"
	"github.com/multi-agent/go-console-v2/internal/store"
	"github.com/multi-agent/go-console-v2/pkg/logger"
	"github.com/multi-agent/go-console-v2/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if err := logger.InitWithFile(cfg.LogDir); err != nil {
		logger.Init(cfg.LogLevel)
	}
	defer logger.ShutdownFileHandler()

	mode := protocol.ParseMode(cfg.ProtocolMode)
	sess := session.New(mode)
	sess.LimitTranscript(cfg.TranscriptMaxMsgs)
	cli := client.New(cfg, sess)

	// 历史持久化可选: 连接串为空则跳过落库。
	var sink *store.HistorySink
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.Any(logger.FieldError, err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.Any(logger.FieldError, err))
		}
		sink = store.NewHistorySink(pool, string(mode))
		cli.SetSink(sink)
	}

	fmt.Printf("console (mode=%s, backend=%s)\n", mode, cfg.OrchestratorBaseURL)
	repl(ctx, cfg, cli, sink)
}

func repl(ctx context.Context, cfg *config.Config, cli *client.Client, sink *store.HistorySink) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/new":
			cli.Session().Reset()
			fmt.Println("新会话已开始")
		case line == "/interrupt":
			res := cli.Interrupt()
			fmt.Printf("中断: %s\n", res.Outcome)
		case line == "/approve":
			if err := cli.Approve(ctx); err != nil {
				fmt.Printf("批准失败: %v\n", err)
			}
		case line == "/reject":
			if err := cli.Reject(ctx); err != nil {
				fmt.Printf("拒绝失败: %v\n", err)
			}
		case strings.HasPrefix(line, "/inject "):
			text := strings.TrimPrefix(line, "/inject ")
			if _, err := cli.Inject(ctx, text); err != nil {
				fmt.Printf("注入失败 (改用普通发送): %v\n", err)
			}
		case line == "/history":
			hydrate(ctx, cfg, cli, sink)
		case strings.HasPrefix(line, "/"):
			fmt.Println("命令: /interrupt /inject <msg> /approve /reject /history /new /quit")
		default:
			sendAsync(ctx, cli, line)
		}
	}
}

// sendAsync 后台驱动发送, REPL 保持可输入 (/interrupt 等切入命令)。
func sendAsync(ctx context.Context, cli *client.Client, text string) {
	util.SafeGo(func() {
		result, err := cli.Send(ctx, text, session.Attachment{})
		if err != nil {
			fmt.Printf("\n发送失败: %v\n> ", err)
			return
		}
		render(cli.Session().Snapshot(), result)
	})
}

func hydrate(ctx context.Context, cfg *config.Config, cli *client.Client, sink *store.HistorySink) {
	if sink == nil {
		fmt.Println("未配置持久化, 无历史可加载")
		return
	}
	convID := cli.Session().ConversationID()
	if convID == "" {
		fmt.Println("当前会话尚无 conv id")
		return
	}
	records, err := sink.LoadHistory(ctx, convID, cfg.HistoryPageLimit)
	if err != nil {
		fmt.Printf("加载历史失败: %v\n", err)
		return
	}
	if !cli.Session().HydrateTranscript(convID, records) {
		fmt.Println("流进行中, 跳过回灌")
		return
	}
	fmt.Printf("已加载 %d 条历史消息\n", len(records))
}

func render(snap session.Snapshot, result client.SendResult) {
	fmt.Println()
	if len(snap.Transcript) > 0 {
		last := snap.Transcript[len(snap.Transcript)-1]
		fmt.Printf("[%s] %s\n", last.Role, last.Content)
	}
	for _, task := range snap.Tasks {
		fmt.Printf("  - 任务 %s: %s %s\n", task.ID, task.Content, task.Status)
	}
	if snap.PendingApproval != nil {
		fmt.Printf("  ! 待审批: %s (%s), /approve 或 /reject\n",
			snap.PendingApproval.Description, snap.PendingApproval.RiskLevel)
	}
	if len(snap.Suggestions) > 0 {
		fmt.Printf("  建议: %s\n", strings.Join(snap.Suggestions, " | "))
	}
	fmt.Printf("(%s)\n> ", result)
}
