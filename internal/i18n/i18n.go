// Package i18n holds the user-facing texts of the bot.
package i18n

import (
	"fmt"
	"sort"
	"strings"
)

const Fallback = "en"

var texts = map[string]map[string]string{
	"ru": {
		"welcome":        "👋 Привет, %s! Это SORA 2.\n\n🎬 Твой тариф: %s\n🎞 Осталось видео: %d\n\nОпиши сцену, и я превращу её в видео.",
		"choose_action":  "💡 Выбери действие:",
		"btn_video":      "🎬 Создать видео",
		"btn_buy":        "💳 Купить видео",
		"btn_profile":    "💰 Кабинет",
		"btn_help":       "❓ Помощь",
		"btn_language":   "🌍 Язык",
		"btn_examples":   "📘 Примеры",
		"btn_main_menu":  "⬅️ Главное меню",
		"btn_cancel":     "✖️ Отмена",
		"btn_vertical":   "📱 Вертикальное",
		"btn_horizontal": "🖥 Горизонтальное",
		"btn_card_plan":  "%s: %d видео за %s",
		"btn_tribute":    "🌍 Иностранная карта: %s",

		"orientation_vertical":   "вертикальная",
		"orientation_horizontal": "горизонтальная",
		"choose_orientation":     "📐 Выбери ориентацию видео:",
		"orientation_chosen":     "✅ Выбрана %s ориентация.\n\n✏️ Опиши сцену простыми словами: кто в кадре, где и что происходит, какая атмосфера.",
		"accepted":               "🎬 Принято описание!\n📐 Ориентация: %s\n\n⏳ Отправляю в Sora 2, это займёт несколько минут.",
		"credits_required":       "😢 У тебя закончились видео.\n\nВыбери пакет и продолжай творить: /buy",
		"no_pending":             "Сначала нажми /video и выбери ориентацию.",
		"empty_description":      "Описание не может быть пустым.",
		"submit_network":         "⚠️ Сервис генерации сейчас недоступен. Видео не списано, попробуй позже.\n🎞 Осталось видео: %d",
		"submit_rejected":        "❌ Сервис генерации отклонил запрос. Видео не списано.\n🎞 Осталось видео: %d",
		"submit_misconfigured":   "⚠️ Генерация видео временно отключена. Видео не списано.\n🎞 Осталось видео: %d",
		"ledger_unavailable":     "⚠️ Не удалось проверить баланс. Попробуй чуть позже.",
		"video_ready":            "🎉 Видео готово!\n🎞 Осталось видео: %d\n\nПришли новое описание через /video.",
		"video_link":             "📹 Видео слишком большое для чата, скачай его по ссылке:\n%s",
		"video_failed":           "❌ Не удалось создать видео. Видео возвращено на баланс.\n🎞 Осталось видео: %d",
		"video_failed_policy":    "🚫 Описание нарушает правила контента. Видео возвращено на баланс, попробуй переформулировать.\n🎞 Осталось видео: %d",

		"profile":      "💰 Кабинет\n\n📦 Тариф: %s\n🎞 Осталось видео: %d\n💵 Всего оплачено: %s",
		"buy_menu":     "💳 Выбери пакет. После оплаты видео будут зачислены автоматически.",
		"payment_link": "💳 Оплата пакета «%s»\nСумма: %s\n\nСсылка для оплаты:\n%s",
		"payments_off": "⚠️ Оплата временно недоступна. Попробуй позже.",
		"payment_fail": "❌ Не удалось создать платёж. Попробуй позже.",
		"payment_done": "✅ Оплата получена! Начислено видео: %d.\n🎞 Осталось видео: %d",

		"help_prompt":  "🧭 Опиши свою проблему одним сообщением, и я передам её в поддержку.",
		"help_sent":    "✅ Сообщение отправлено. Ответим как можно скорее!",
		"help_failed":  "⚠️ Не удалось отправить сообщение. Попробуй позже.",
		"help_forward": "📩 Новое сообщение в поддержку\n\n👤 @%s (%s)\n🆔 %d\n💬 %s",

		"choose_language": "🌍 Выбери язык:",
		"language_set":    "✅ Язык изменён на русский.",
		"examples":        "📘 Идеи для видео:\n\n🔹 Рыбаки вытаскивают сеть, в ней странное существо\n🔹 Бабушка кормит капибару у окна, рассвет\n🔹 Советские рабочие открывают капсулу времени\n🔹 Старый дом с привидениями, ночь\n\nТеперь попробуй сам: /video",
		"instructions":    "💡 Всё просто:\n1️⃣ Нажми /video.\n2️⃣ Выбери ориентацию.\n3️⃣ Опиши сцену, и бот пришлёт готовое видео.",
		"unknown_text":    "✏️ Нажми /video, чтобы создать новое видео.",
		"error_generic":   "❌ Что-то пошло не так. Попробуй /start",

		"plan_none":    "нет",
		"plan_trial":   "🌱 Пробный",
		"plan_basic":   "✨ Базовый",
		"plan_maximum": "💎 Максимум",
	},
	"en": {
		"welcome":        "👋 Hi, %s! This is SORA 2.\n\n🎬 Your plan: %s\n🎞 Videos left: %d\n\nDescribe a scene and I will turn it into a video.",
		"choose_action":  "💡 Choose an action:",
		"btn_video":      "🎬 Create video",
		"btn_buy":        "💳 Buy videos",
		"btn_profile":    "💰 Profile",
		"btn_help":       "❓ Help",
		"btn_language":   "🌍 Language",
		"btn_examples":   "📘 Examples",
		"btn_main_menu":  "⬅️ Main menu",
		"btn_cancel":     "✖️ Cancel",
		"btn_vertical":   "📱 Vertical",
		"btn_horizontal": "🖥 Horizontal",
		"btn_card_plan":  "%s: %d videos for %s",
		"btn_tribute":    "🌍 Foreign card: %s",

		"orientation_vertical":   "vertical",
		"orientation_horizontal": "horizontal",
		"choose_orientation":     "📐 Choose the video orientation:",
		"orientation_chosen":     "✅ %s orientation selected.\n\n✏️ Describe the scene in simple words: who is in the frame, where and what happens, the mood.",
		"accepted":               "🎬 Description accepted!\n📐 Orientation: %s\n\n⏳ Sending it to Sora 2, this takes a few minutes.",
		"credits_required":       "😢 You are out of videos.\n\nPick a package to keep creating: /buy",
		"no_pending":             "Press /video and choose an orientation first.",
		"empty_description":      "The description cannot be empty.",
		"submit_network":         "⚠️ The generation service is unreachable. Your video was not charged, try again later.\n🎞 Videos left: %d",
		"submit_rejected":        "❌ The generation service rejected the request. Your video was not charged.\n🎞 Videos left: %d",
		"submit_misconfigured":   "⚠️ Video generation is temporarily disabled. Your video was not charged.\n🎞 Videos left: %d",
		"ledger_unavailable":     "⚠️ Could not check your balance. Please try again shortly.",
		"video_ready":            "🎉 Your video is ready!\n🎞 Videos left: %d\n\nSend a new description with /video.",
		"video_link":             "📹 The video is too large for chat, download it here:\n%s",
		"video_failed":           "❌ The video could not be created. It was returned to your balance.\n🎞 Videos left: %d",
		"video_failed_policy":    "🚫 The description violates the content policy. The video was returned to your balance, try rephrasing.\n🎞 Videos left: %d",

		"profile":      "💰 Profile\n\n📦 Plan: %s\n🎞 Videos left: %d\n💵 Total paid: %s",
		"buy_menu":     "💳 Choose a package. Videos are added automatically after payment.",
		"payment_link": "💳 Payment for «%s»\nAmount: %s\n\nPayment link:\n%s",
		"payments_off": "⚠️ Payments are temporarily unavailable. Please try later.",
		"payment_fail": "❌ Could not create the payment. Please try later.",
		"payment_done": "✅ Payment received! Videos added: %d.\n🎞 Videos left: %d",

		"help_prompt":  "🧭 Describe your problem in one message and I will forward it to support.",
		"help_sent":    "✅ Message sent. We will answer as soon as possible!",
		"help_failed":  "⚠️ Could not send the message. Please try later.",
		"help_forward": "📩 New support message\n\n👤 @%s (%s)\n🆔 %d\n💬 %s",

		"choose_language": "🌍 Choose your language:",
		"language_set":    "✅ Language set to English.",
		"examples":        "📘 Video ideas:\n\n🔹 Fishermen pull a net with a strange creature\n🔹 Grandma feeds a capybara by the window at dawn\n🔹 Workers open a time capsule\n🔹 An old haunted house at night\n\nNow try yourself: /video",
		"instructions":    "💡 It is simple:\n1️⃣ Press /video.\n2️⃣ Choose the orientation.\n3️⃣ Describe the scene and the bot sends back the video.",
		"unknown_text":    "✏️ Press /video to create a new video.",
		"error_generic":   "❌ Something went wrong. Try /start",

		"plan_none":    "none",
		"plan_trial":   "🌱 Trial",
		"plan_basic":   "✨ Basic",
		"plan_maximum": "💎 Maximum",
	},
}

// T returns the text for key in lang, formatted with args. Unknown languages
// and missing keys fall back to English, then to the key itself.
func T(lang, key string, args ...any) string {
	text, ok := texts[Normalize(lang)][key]
	if !ok {
		text, ok = texts[Fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// Normalize maps a Telegram language code such as "en-US" onto a supported
// language, or Fallback.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if _, ok := texts[lang]; ok {
		return lang
	}
	return Fallback
}

func Supported(lang string) bool {
	_, ok := texts[strings.ToLower(lang)]
	return ok
}

// Languages lists the supported language codes in stable order.
func Languages() []string {
	langs := make([]string, 0, len(texts))
	for l := range texts {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// PlanName is the display name of a plan code.
func PlanName(lang, code string) string {
	name := T(lang, "plan_"+code)
	if name == "plan_"+code {
		return code
	}
	return name
}

// Money formats minor units as a price, e.g. 99000 RUB -> "990 ₽".
func Money(minor int64, currency string) string {
	whole, frac := minor/100, minor%100
	amount := fmt.Sprintf("%d", whole)
	if frac != 0 {
		amount = fmt.Sprintf("%d.%02d", whole, frac)
	}
	switch strings.ToUpper(currency) {
	case "RUB", "":
		return amount + " ₽"
	case "USD":
		return "$" + amount
	case "EUR":
		return amount + " €"
	default:
		return amount + " " + strings.ToUpper(currency)
	}
}
