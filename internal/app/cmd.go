package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker は収集・投稿スケジューラとステータスサーバーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandOnce は収集サイクルを1回実行し、キューから1件投稿して終了することを示す。
	CommandOnce Command = "once"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "once":
		return CommandOnce
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandWorker
	}
}
