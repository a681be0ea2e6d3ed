package submission

import "fmt"

// Catalog lists the option labels offered by the target form.
type Catalog struct {
	Classifications []string `json:"classificacoes"`
	Companies       []string `json:"empresas"`
	Units           []string `json:"unidades"`
	Hours           []string `json:"horas"`
	Shifts          []string `json:"turnos"`
	Areas           []string `json:"areas"`
	Observations    []string `json:"observacoes"`
}

// DefaultCatalog returns the labels of the safety-observation form.
func DefaultCatalog() Catalog {
	return Catalog{
		Classifications: []string{"Quase acidente", "Comportamento inseguro", "Condição insegura"},
		Companies:       []string{"Raízen", "Contratada"},
		Units: []string{
			"Araraquara", "Barra", "Benalcool", "Bonfim", "Caarapó", "Continental", "Costa Pinto",
			"Destivale", "Diamante", "Dois Córregos", "Gasa", "Ipaussu", "Jataí", "Junqueira",
			"Lagoa da Prata", "Leme", "Maracaí", "MB", "Mundial", "Paraguaçú", "Paraíso",
			"Passa Tempo", "Rafard", "Rio Brilhante", "Santa Cândida", "Santa Elisa",
			"Santa Helena", "São Francisco", "Serra", "Tarumã", "Univalem", "Vale do Rosário",
		},
		Hours:  halfHours(),
		Shifts: []string{"A", "B", "C"},
		Areas:  []string{"Adm", "Agr", "Alm", "Aut", "Biogás", "E2G", "Ind"},
		Observations: []string{
			"Condição estrutural do equipamento", "Condição estrutural do local",
			"Construção civil", "COVID", "Descarte de lixo", "Direção segura",
			"Elevação e movimentação de carga", "Espaço Confinado", "LOTO",
			"Meio Ambiente - Fumaça Preta", "Meio Ambiente - Resíduos",
			"Meio Ambiente - Vazamentos", "Meio Ambiente - Vinhaça",
			"Mov. cargas e interface Homem Máquina", "Permissão de Serviços e procedimentos",
			"Regra dos três pontos", "Segurança de processo (Aplicável na Indústria)",
			"Serviço elétrico", "Serviços a quente", "Trabalho em Altura",
			"Uso de EPIS", "5S",
		},
	}
}

func halfHours() []string {
	out := make([]string, 0, 48)
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 30} {
			out = append(out, fmt.Sprintf("%02d:%02d", h, m))
		}
	}
	return out
}
