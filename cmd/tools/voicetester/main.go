package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/service/stt"
	"github.com/zhouzirui/vox-agent/backend/internal/service/tts"
)

// 每帧 100ms 的 16kHz 16bit 单声道 PCM
const frameBytes = 3200

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: stt 或 tts")
	audioPath := flag.String("audio", "", "STT 输入 PCM 文件路径 (16kHz 16bit mono)")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "stt" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=stt 或 -mode=tts 指定测试模式")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "stt":
		runSTT(ctx, cfg, *audioPath)
	case "tts":
		runTTS(ctx, cfg, *text, *outputPath)
	}
}

func runSTT(ctx context.Context, cfg *config.Config, audioPath string) {
	if audioPath == "" {
		log.Fatal("STT 模式需要通过 -audio 指定 PCM 文件路径")
	}
	if cfg.Voice.AssemblyAIKey == "" {
		log.Fatal("缺少 ASSEMBLYAI_API_KEY")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	closed := make(chan struct{})
	dialer := stt.NewDialer(cfg.Voice)
	client, err := dialer.Dial(ctx, cfg.Voice.AssemblyAIKey, func(ev stt.Event) {
		switch ev.Kind {
		case stt.Opened:
			log.Printf("转写连接已建立")
		case stt.Partial:
			log.Printf("部分转写: %q", ev.Text)
		case stt.Final:
			log.Printf("回合转写: %q", ev.Text)
		case stt.Failed:
			log.Printf("转写出错: %v", ev.Err)
		case stt.Closed:
			close(closed)
		}
	})
	if err != nil {
		log.Fatalf("转写连接失败: %v", err)
	}
	defer client.Close()

	log.Printf("开始推送音频: bytes=%d frames=%d", len(data), (len(data)+frameBytes-1)/frameBytes)
	for offset := 0; offset < len(data); offset += frameBytes {
		end := offset + frameBytes
		if end > len(data) {
			end = len(data)
		}
		if err := client.SendAudio(data[offset:end]); err != nil {
			log.Fatalf("推送音频失败: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := client.Close(); err != nil {
		log.Printf("关闭转写连接失败: %v", err)
	}

	select {
	case <-closed:
		log.Printf("转写结束")
	case <-ctx.Done():
		log.Printf("等待转写结束超时")
	}
}

func runTTS(ctx context.Context, cfg *config.Config, text, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}
	if cfg.Voice.MurfKey == "" {
		log.Fatal("缺少 MURF_API_KEY")
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.wav", time.Now().Unix())
	}

	voiceCfg := tts.VoiceConfig{
		VoiceID: cfg.Voice.VoiceID,
		Style:   cfg.Voice.VoiceStyle,
		Rate:    cfg.Voice.VoiceRate,
	}

	dialer := tts.NewDialer(cfg.Voice)
	stream, err := dialer.Open(ctx, cfg.Voice.MurfKey, uuid.NewString(), voiceCfg)
	if err != nil {
		log.Fatalf("合成连接失败: %v", err)
	}
	defer stream.Close()

	log.Printf("开始进行 TTS 测试: voice=%s chars=%d", voiceCfg.VoiceID, len(text))

	if err := stream.SendText(text); err != nil {
		log.Fatalf("发送文本失败: %v", err)
	}
	if err := stream.End(); err != nil {
		log.Fatalf("结束合成失败: %v", err)
	}

	var audio []byte
	for chunk := range stream.Chunks() {
		if chunk.Audio != "" {
			decoded, decodeErr := base64.StdEncoding.DecodeString(chunk.Audio)
			if decodeErr != nil {
				log.Fatalf("解码音频失败: %v", decodeErr)
			}
			audio = append(audio, decoded...)
		}
		if chunk.Final {
			break
		}
	}
	if err := stream.Err(); err != nil {
		log.Fatalf("合成流出错: %v", err)
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, bytes=%d", outputPath, len(audio))
}
