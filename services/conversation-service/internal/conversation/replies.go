package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
)

// MaxListedSlots caps how many slots one reply offers.
const MaxListedSlots = 5

const (
	replyApology        = "Lo sentimos, ocurrió un error procesando tu mensaje. Por favor intentá de nuevo en unos minutos."
	replyNoServices     = "Lo sentimos, por el momento no hay servicios disponibles para reservar."
	replyNoSlots        = "Lo sentimos, no quedan horarios disponibles para hoy. Escribí \"turno\" más tarde para intentar de nuevo."
	replyNoAppointments = "No tenés turnos próximos para cancelar."
	replySlotTaken      = "Ese horario acaba de ser reservado por otra persona. Escribí \"turno\" para ver los horarios disponibles."
	replySlotExpired    = "Ese horario ya pasó. Escribí \"turno\" para ver los horarios disponibles."
)

func replyWelcome(b model.Business) string {
	return fmt.Sprintf("¡Hola! Bienvenido a %s.\nEscribí \"turno\" para reservar o \"cancelar\" para cancelar un turno.", b.Name)
}

func replyInvalidOption(count int) string {
	return fmt.Sprintf("Opción inválida. Respondé con un número del 1 al %d.", count)
}

func replyServiceList(services []model.Service) string {
	var b strings.Builder
	b.WriteString("¿Qué servicio querés reservar?\n")
	for i, s := range services {
		fmt.Fprintf(&b, "%d. %s (%d min)\n", i+1, s.Name, s.DurationMinutes)
	}
	b.WriteString("Respondé con el número de la opción.")
	return b.String()
}

func replySlotList(service model.Service, slots []model.TimeSlot, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Horarios disponibles hoy para %s:\n", service.Name)
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Start.In(loc).Format("15:04"))
	}
	b.WriteString("Respondé con el número del horario.")
	return b.String()
}

func replyConfirmed(b model.Business, serviceName string, appt model.Appointment) string {
	start := appt.StartTime.In(b.Location())
	if serviceName == "" {
		return fmt.Sprintf("¡Listo! Tu turno en %s quedó confirmado para el %s a las %s.",
			b.Name, start.Format("02/01"), start.Format("15:04"))
	}
	return fmt.Sprintf("¡Listo! Tu turno de %s en %s quedó confirmado para el %s a las %s.",
		serviceName, b.Name, start.Format("02/01"), start.Format("15:04"))
}

func replyCancellationList(pending []PendingAppointment, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("¿Qué turno querés cancelar?\n")
	for i, p := range pending {
		start := p.Start.In(loc)
		if p.ServiceName != "" {
			fmt.Fprintf(&b, "%d. %s %s a las %s\n", i+1, p.ServiceName, start.Format("02/01"), start.Format("15:04"))
		} else {
			fmt.Fprintf(&b, "%d. %s a las %s\n", i+1, start.Format("02/01"), start.Format("15:04"))
		}
	}
	b.WriteString("Respondé con el número del turno.")
	return b.String()
}

func replyCancelled(p PendingAppointment, loc *time.Location) string {
	start := p.Start.In(loc)
	return fmt.Sprintf("Tu turno del %s a las %s fue cancelado.", start.Format("02/01"), start.Format("15:04"))
}
