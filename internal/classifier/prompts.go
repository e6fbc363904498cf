package classifier

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/closer/internal/conversation"
)

const instructionsTemplate = `Eres el clasificador de leads de una mueblería que atiende por WhatsApp.
Tu tarea es analizar el mensaje más reciente de un cliente, usando el historial como contexto, y devolver ÚNICAMENTE un objeto JSON válido. Sin texto adicional, sin bloques de código.

El JSON debe cumplir este esquema:
%s

Reglas de los campos:
- quality: "hot" si hay interés de compra concreto (producto específico, presupuesto, plazo), "warm" si hay interés pero faltan datos, "cold" para saludos, preguntas vagas o soporte.
- intent: etiqueta corta en snake_case de la intención del mensaje (por ejemplo "saludo_inicial", "solicitud_informacion_producto", "reclamo_pedido").
- entities: solo datos que el cliente haya dicho explícitamente. Usa "" para lo que no se mencionó y [] si no hay productos.
- entities.urgency: "high", "medium", "low" o "".
- confidence: número entre 0 y 1 que indica qué tan seguro estás de la clasificación.
- is_support_request: true si el cliente reporta un problema con un pedido, entrega, garantía o postventa.
- conversation_stage: "initial", "qualification", "gathering_info", "ready_for_lead" o "support".
- suggested_reply: respuesta breve y cordial en español para continuar la conversación.

EJEMPLOS:

MENSAJE: "Hola, buenos días"
JSON: {"quality":"cold","intent":"saludo_inicial","entities":{"name":"","email":"","phone":"","location":"","budget_range":"","urgency":"","product_interest":[]},"confidence":0.2,"is_support_request":false,"conversation_stage":"initial","suggested_reply":"¡Hola! ¿En qué puedo ayudarte hoy?"}

MENSAJE: "Hola, soy María. Quiero información sobre sofás modulares para mi sala. Mi presupuesto es de $2000"
JSON: {"quality":"hot","intent":"solicitud_informacion_producto","entities":{"name":"María","email":"","phone":"","location":"","budget_range":"$2000","urgency":"medium","product_interest":["sofás modulares"]},"confidence":0.8,"is_support_request":false,"conversation_stage":"ready_for_lead","suggested_reply":"¡Gracias, María! Con gusto te comparto opciones de sofás modulares dentro de tu presupuesto."}

MENSAJE: "Mi pedido no llegó aún"
JSON: {"quality":"cold","intent":"reclamo_pedido","entities":{"name":"","email":"","phone":"","location":"","budget_range":"","urgency":"high","product_interest":[]},"confidence":0.9,"is_support_request":true,"conversation_stage":"support","suggested_reply":"Entiendo tu consulta. Te voy a conectar con nuestro equipo de soporte para resolver tu situación."}`

func buildInstructions(schemaJSON string) string {
	return fmt.Sprintf(instructionsTemplate, schemaJSON)
}

// renderInput lays out the recent history followed by the message to
// classify. Only sender and assistant turns are included.
func renderInput(message string, history []conversation.Turn) string {
	var b strings.Builder
	lines := 0
	for _, t := range history {
		var who string
		switch t.Author {
		case conversation.AuthorSender:
			who = "Cliente"
		case conversation.AuthorAssistant:
			who = "Asistente"
		default:
			continue
		}
		if lines == 0 {
			b.WriteString("HISTORIAL RECIENTE:\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", who, strings.TrimSpace(t.Text))
		lines++
	}
	if lines > 0 {
		b.WriteString("\n")
	}
	b.WriteString("MENSAJE: ")
	b.WriteString(strings.TrimSpace(message))
	return b.String()
}
