package assistant

const systemPrompt = "Ты опытный диетолог и дружелюбный помощник по питанию. " +
	"Отвечай кратко и по делу, учитывай профиль пользователя, его цели и ограничения. " +
	"Не ставь медицинских диагнозов; при тревожных симптомах советуй обратиться к врачу."

const summaryPrompt = "Сожми переписку с пользователем в 3-6 коротких строк памяти: " +
	"цель, ограничения и аллергии, предпочтения в еде, мотивация. " +
	"Пиши только факты о пользователе, без приветствий и без списка сообщений."

const photoPrompt = "Определи блюда на фото и оцени их пищевую ценность. " +
	"Верни только JSON-объект вида " +
	`{"items":[{"name":"","grams":0,"kcal":0,"b":0,"j":0,"u":0}],"total":{"kcal":0,"b":0,"j":0,"u":0},"advice":""}` +
	", где b - белки, j - жиры, u - углеводы в граммах. " +
	"Если значение оценить невозможно, не указывай это поле. advice - один короткий совет."

// mealTypes maps the accepted suggestion types to their Russian names.
var mealTypes = map[string]string{
	"breakfast": "завтрак",
	"lunch":     "обед",
	"snack":     "перекус",
}

const suggestionPrompt = "Предложи 3 варианта блюд на %s с учётом профиля и ограничений пользователя. " +
	"Для каждого варианта укажи название, примерный вес порции и калорийность. Без длинных вступлений."
