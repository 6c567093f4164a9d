package flow

// Fixed user-facing texts.
const (
	// GenderQuestion is asked on first contact and repeated on ambiguous answers.
	GenderQuestion = "まずは性別を教えてください（男性／女性／その他）。"

	WelcomeText = "はじめまして、カケルです。\nあなたの恋のお話、ゆっくり聞かせてくださいね。\n\n" + GenderQuestion

	StatusPrompt = "ありがとうございます。\n今の恋愛状況にいちばん近いものを教えてください（片思い／交際中／失恋／その他）。"

	FeelingPrompt = "教えてくれてありがとうございます。\n最後に、今の気持ちを一言で聞かせてください。"

	AcknowledgementText = "気持ちを話してくれてありがとうございます。\nここからは何でも気軽に相談してくださいね。"

	// ResendText answers empty or over-long messages.
	ResendText = "ごめんなさい、うまく受け取れませんでした。1000文字以内のテキストで、もう一度送ってもらえますか？"

	// FallbackReply replaces any reply that could not be generated.
	FallbackReply = "ごめんなさい、少し考え込んでしまいました。もう一度話してもらえますか？"
)

// premiumInvitation is appended to the acknowledgement for free-plan users
// when an upsell link is configured.
const premiumInvitation = "\n\nもっとじっくり相談したいときは、プレミアムプランもご用意しています。\n"
