package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/SoraVideoBot/internal/i18n"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/service"
)

// Callback data understood by handleCallback.
const (
	cbVideo       = "menu_video"
	cbBuy         = "menu_buy"
	cbProfile     = "menu_profile"
	cbHelp        = "menu_help"
	cbLanguage    = "menu_language"
	cbExamples    = "menu_examples"
	cbMainMenu    = "main_menu"
	cbCancelHelp  = "cancel_help"
	cbOrientation = "orientation_"
	cbBuyCard     = "buy_"
	cbBuyTribute  = "tribute_"
	cbLang        = "lang_"
)

var languageLabels = map[string]string{
	"ru": "🇷🇺 Русский",
	"en": "🇬🇧 English",
}

func mainMenuKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_video"), cbVideo),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_buy"), cbBuy),
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_profile"), cbProfile),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_examples"), cbExamples),
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_help"), cbHelp),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_language"), cbLanguage),
		),
	)
}

func backKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_main_menu"), cbMainMenu),
		),
	)
}

func orientationKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_vertical"), cbOrientation+string(models.OrientationVertical)),
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_horizontal"), cbOrientation+string(models.OrientationHorizontal)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_main_menu"), cbMainMenu),
		),
	)
}

// plansKeyboard offers every active plan once per configured provider.
func plansKeyboard(lang string, plans []models.Plan, providers []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, provider := range providers {
		for _, p := range plans {
			var btn tgbotapi.InlineKeyboardButton
			switch provider {
			case service.ProviderYooKassa:
				text := i18n.T(lang, "btn_card_plan", i18n.PlanName(lang, p.Code), p.Credits, i18n.Money(int64(p.PriceMinorUnits), p.Currency))
				btn = tgbotapi.NewInlineKeyboardButtonData(text, cbBuyCard+p.Code)
			case service.ProviderTribute:
				btn = tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_tribute", i18n.PlanName(lang, p.Code)), cbBuyTribute+p.Code)
			default:
				continue
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_main_menu"), cbMainMenu),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func paymentKeyboard(lang, url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(i18n.T(lang, "btn_buy"), url),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_main_menu"), cbMainMenu),
		),
	)
}

func languageKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, code := range i18n.Languages() {
		label := languageLabels[code]
		if label == "" {
			label = code
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbLang+code))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func cancelHelpKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(i18n.T(lang, "btn_cancel"), cbCancelHelp),
		),
	)
}
