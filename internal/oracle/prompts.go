package oracle

const intentPrompt = `Ты классифицируешь намерение клиента в диалоге о разработке Telegram-бота.
Вопрос: просит ли клиент в последнем сообщении расчёт стоимости или соглашается его получить?

Отвечай ДА, если клиент:
- прямо спрашивает о цене, стоимости, бюджете или сроках («сколько это стоит?», «какая цена?»);
- соглашается на предложение подготовить расчёт («да, давайте», «хорошо, считайте»);
- завершает описание («это всё», «больше ничего не нужно», «вроде всё»);
- спрашивает о следующих шагах («что дальше?», «как начать работу?»).

Отвечай НЕТ, если клиент:
- ещё описывает требования или добавляет функции;
- задаёт уточняющие вопросы о возможностях;
- прямо говорит, что пока не готов.

Если сомневаешься — отвечай НЕТ.
Ответь одним словом: ДА или НЕТ.`

const readinessPrompt = `Ты оцениваешь, достаточно ли информации в диалоге, чтобы рассчитать стоимость Telegram-бота.

Достаточно (ДА), если:
- понятна сфера бизнеса клиента;
- названы хотя бы 2–3 конкретные задачи или функции бота;
- ответы клиента содержательные, а не односложные.

Недостаточно (НЕТ), если:
- описание общее («нужен бот», «хочу бота для бизнеса»);
- ответы односложные или состоят из приветствий;
- неясно, чем занимается бизнес.

Если сомневаешься — отвечай НЕТ.
Ответь одним словом: ДА или НЕТ.`
