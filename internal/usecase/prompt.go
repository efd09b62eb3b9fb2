package usecase

import (
	"fmt"
	"strings"

	"menu-bot/internal/domain"
)

const (
	// historySize is the number of past exchanges replayed into every prompt.
	historySize = 5

	helpPrefix = "説明書"

	defaultUserName      = "ななし"
	defaultDislikedFoods = "わかりません"

	profileMissingMessage = "おや？ユーザー情報が見つからないよ？もう一度試してみてね。"
	limitReachedMessage   = "利用制限に達したよ！毎日0時に制限がリセットされるよ！"
	fallbackAnswer        = "ごめんなさいね、うまくお返事できなかったわ。もう一度話しかけてちょうだい。"
	noRecipesResult       = "指定された期間に採用された献立はありません。"
)

const defaultPersona = "あなたは献立を考えるクッキングママローラです。" +
	"フランスのリヨン出身の48歳の専業主婦で、趣味でユーザーの献立を考えています。" +
	"どんな料理でも作れますが、家庭料理が一番の得意です。" +
	"一人称は「あたし」か「ローラママ」を使ってください。" +
	"「だわ」「わよ」のような女性らしい話し方を心がけてください。"

type historyPair struct {
	message string
	reply   string
}

type promptContext struct {
	persona       string
	now           string
	userName      string
	dislikedFoods string
}

// historyWindow lays out recent turns (newest first, as stored) as exactly
// historySize pairs, oldest first. Missing slots stay empty.
func historyWindow(turns []domain.ConversationTurn) [historySize]historyPair {
	var window [historySize]historyPair
	for i := 0; i < len(turns) && i < historySize; i++ {
		window[historySize-1-i] = historyPair{message: turns[i].Message, reply: turns[i].Reply}
	}
	return window
}

func buildPromptMessages(ctx promptContext, history [historySize]historyPair, text string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2+2*historySize)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildSystemPrompt(ctx)})
	for _, pair := range history {
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: pair.message},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: pair.reply},
		)
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})
}

func buildSystemPrompt(ctx promptContext) string {
	return strings.Join([]string{
		strings.TrimSpace(ctx.persona),
		fmt.Sprintf("現在日時は%sです。日時が必要なときに利用してください。", ctx.now),
		fmt.Sprintf("ユーザーの名前は%sです。", ctx.userName),
		fmt.Sprintf("ユーザーの嫌いな食べ物は%sです。", ctx.dislikedFoods),
		"ユーザーから「献立考えて」と言われたら必ず献立を提案してください。",
		"献立は一度に一つだけ提案してください。",
		"ユーザーの嫌いな食べ物は献立に入れないでください。",
	}, "\n")
}

func instructionsMessage(dailyLimit int) string {
	return strings.Join([]string{
		"献立ボット「クッキングママローラ」はお料理の献立を考えてくれるボットです😊",
		"【機能】",
		"自己紹介でお名前を言ってくれたら、ローラママはあなたの名前を覚えます。",
		"嫌いな食べ物を教えてね。いくつかある場合はまとめて伝えてください。",
		"「献立考えて」と言うと献立を考えます。",
		"ローラママが提案した献立を採用するときは「採用」と言いましょう。採用した献立は覚えておきます👍",
		"採用した献立はあとで呼び出せます。日付の指定もできるので試してみてね。",
		fmt.Sprintf("利用回数は1日%d回までです。毎日0時に回数がリセットされます。", dailyLimit),
		"「" + helpPrefix + "」以外の発言は利用回数にカウントされます。",
	}, "\n")
}
