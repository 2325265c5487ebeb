package fixtures

import "github.com/embedref/embedref/pipelines"

// RetrievalTask is the default instruction used for the instructed e5 query cases.
const RetrievalTask = "Given a web search query, retrieve relevant passages that answer the query"

// MultiVectorCorpus returns the fixed test texts encoded by the bge-m3
// fixture run. The empty string is intentional.
func MultiVectorCorpus() []string {
	return []string{
		"This is a simple test text.",
		"Hello world!",
		"A test text! Texto de prueba! Текст для теста! 測試文字! Testtext! Testez le texte! Сынақ мәтіні! Тестни текст! परीक्षण पाठ! Kiểm tra văn bản!",
		"",
		"This is a longer text that should generate a meaningful embedding vector. The embedding model should capture the semantic meaning of this text.",
		"ONNX Runtime is a performance-focused engine for ONNX models.",
		"Text with numbers: 12345 and symbols: !@#$%^&*()",
		"English, Español, Русский, 中文, العربية, हिन्दी",
	}
}

// Case is one named fixture input.
type Case struct {
	Name string
	Text string
}

// InstructCases returns the fixed test cases for the e5 instruct fixture run.
// Queries are wrapped in the instruct template with the given task, documents
// and plain texts are encoded as is.
func InstructCases(task string) []Case {
	if task == "" {
		task = RetrievalTask
	}
	return []Case{
		// Instructed queries (for retrieval)
		{Name: "instruct_protein_query", Text: pipelines.DetailedInstruct(task, "how much protein should a female eat")},
		{Name: "instruct_pumpkin_query", Text: pipelines.DetailedInstruct(task, "南瓜的家常做法")},

		// Documents (no instruction needed)
		{Name: "protein_document", Text: "As a general guideline, the CDC's average requirement of protein for women ages 19 to 70 is 46 grams per day. But, as you can see from this chart, you'll need to increase that if you're expecting or training for a marathon. Check out the chart below to see how much protein you should be eating each day."},
		{Name: "pumpkin_document", Text: "1.清炒南瓜丝 原料:嫩南瓜半个 调料:葱、盐、白糖、鸡精 做法: 1、南瓜用刀薄薄的削去表面一层皮,用勺子刮去瓤 2、擦成细丝(没有擦菜板就用刀慢慢切成细丝) 3、锅烧热放油,入葱花煸出香味 4、入南瓜丝快速翻炒一分钟左右,放盐、一点白糖和鸡精调味出锅 2.香葱炒南瓜 原料:南瓜1只 调料:香葱、蒜末、橄榄油、盐 做法: 1、将南瓜去皮,切成片 2、油锅8成热后,将蒜末放入爆香 3、爆香后,将南瓜片放入,翻炒 4、在翻炒的同时,可以不时地往锅里加水,但不要太多 5、放入盐,炒匀 6、南瓜差不多软和绵了之后,就可以关火 7、撒入香葱,即可出锅"},

		// Additional test cases
		{Name: "simple_text", Text: "This is a simple test text."},
		{Name: "empty_text", Text: ""},
		{Name: "multilingual_text", Text: "English, Español, Русский, 中文, العربية, हिन्दी"},
		{Name: "long_text", Text: "This is a longer text that should generate a meaningful embedding vector. The embedding model should capture the semantic meaning of this text and provide high-quality representations for various downstream tasks."},
		{Name: "technical_text", Text: "ONNX Runtime is a performance-focused engine for ONNX models, enabling cross-platform inference with identical results."},

		// Different task instructions
		{Name: "classification_query", Text: pipelines.DetailedInstruct("Classify the sentiment of this text", "I love this product!")},
		{Name: "summarization_query", Text: pipelines.DetailedInstruct("Summarize the following passage", "The quick brown fox jumps over the lazy dog. This sentence contains every letter of the alphabet.")},
	}
}
