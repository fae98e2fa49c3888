package config

// Decrypt holds the options of one decryption run.
type Decrypt struct {
	Keys                     []string `desc:"解密密钥, KID:KEY, TRACKID:KEY 或 KEY"`
	Tracks                   string   `default:"all" desc:"需要解密的轨道, 如 1,3-4"`
	FallbackSingleKey        bool     `desc:"唯一的密钥用于所有轨道"`
	AbortOnFirstTrackFailure bool     `desc:"任一轨道失败即终止"`
	Concurrency              int      `desc:"并行解密的轨道数, 0 为 CPU 数"`
	Verify                   bool     `desc:"用 mp4ff 校验输出"`
}

type Log struct {
	Level     string `default:"info" enum:"trace:跟踪,debug:调试,info:信息,warn:警告,error:错误"` //日志级别
	Path      string `desc:"日志文件存放目录, 为空则只输出到终端"`
	Size      uint64 `default:"1048576" desc:"日志文件大小，单位：字节"`
	Formatter string `default:"2006-01-02T15" desc:"日志文件名格式"`
	MaxFiles  uint64 `default:"7" desc:"最大日志文件数量"`
}

type Metrics struct {
	File string `desc:"运行结束后写入的 prometheus 文本文件"`
}

type Tool struct {
	Input   string `desc:"输入文件"`
	Output  string `desc:"输出文件"`
	Decrypt Decrypt
	Log     Log
	Metrics Metrics
}
