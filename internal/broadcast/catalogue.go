// Package broadcast composes and delivers the scheduled broadcasts.
package broadcast

import "errors"

// Name identifies one broadcast. It is also the log type of its rows.
type Name string

const (
	Monday       Name = "monday"
	Wednesday    Name = "wednesday"
	Friday       Name = "friday"
	Sunday       Name = "sunday"
	Omikuji      Name = "omikuji"
	MoonAuto     Name = "moon_auto"
	WeeklyReport Name = "weekly_report"
	PremiumCheck Name = "premium_check"
)

// ErrUnknownBroadcast is returned for a name outside the catalogue.
var ErrUnknownBroadcast = errors.New("unknown broadcast")

// Names lists every broadcast in the catalogue.
func Names() []Name {
	return []Name{Monday, Wednesday, Friday, Sunday, Omikuji, MoonAuto, WeeklyReport, PremiumCheck}
}

// ParseName validates a broadcast name.
func ParseName(s string) (Name, error) {
	for _, n := range Names() {
		if string(n) == s {
			return n, nil
		}
	}
	return "", ErrUnknownBroadcast
}

var dayMessages = map[Name]string{
	Monday:    "🌅月曜メッセージ：新しい週の始まり。無理せず少しずつ進もう。",
	Wednesday: "🌿水曜メッセージ：週の折り返し。焦らずリズムを整えてね。",
	Friday:    "🌙金曜メッセージ：1週間お疲れさま。今夜はゆっくり休もう。",
	Sunday:    "☕日曜メッセージ：今週もよく頑張りましたね。感謝してリセットしよう。",
}

var fortunes = []string{
	"🌞大吉：最高の一日になりそうです！",
	"🍀中吉：いい流れが来てますよ。",
	"🌸小吉：穏やかな日になりますように。",
	"🌾吉：小さな幸せを大事にしましょう。",
	"🌧凶：今日は自分を労わる日です。",
}

const omikujiHeader = "🎯おはようございます！今日の運勢は…\n"

const (
	newMoonMessage  = "🌑 新月メッセージ：静けさの中で新しい願いを描こう。"
	fullMoonMessage = "🌕 満月メッセージ：感謝と共に手放す日。月の光を感じて過ごそう。"
)

const premiumUpsell = "💎カケル プレミアムのご案内\n" +
	"いつも話してくれてありがとうございます。\n" +
	"プレミアムでは、これまでの会話をふまえて、もっと具体的にじっくり寄り添います。\n"
